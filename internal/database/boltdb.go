package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"drivesync/internal/fs"
	"drivesync/internal/meta"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	// RootID 是根文件夹的固定 id
	RootID = "root"

	objectsBucket  = "Objects"
	contentsBucket = "Contents"
	childrenBucket = "Children"
)

// Store 是基于 BoltDB 的远端对象存储.
// It serves as the offline backend and as the remote side in engine tests.
type Store struct {
	conn *bbolt.DB
	path string
	now  func() time.Time
}

// Open 初始化并打开数据库
func Open(dbPath string) (*Store, error) {
	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", dbPath, err)
	}

	s := &Store{conn: db, path: dbPath, now: time.Now}

	// 确保 Bucket 和根目录存在
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{objectsBucket, contentsBucket, childrenBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		if tx.Bucket([]byte(objectsBucket)).Get([]byte(RootID)) != nil {
			return nil
		}
		return putObject(tx, &Object{
			ID:           RootID,
			IsFolder:     true,
			ModifiedTime: meta.ToRemoteFormat(meta.FromTime(s.now())),
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Name() string {
	return "bolt:" + s.path
}

// ListChildren 按创建顺序列出文件夹的直接子项
func (s *Store) ListChildren(ctx context.Context, folderID string) ([]*fs.RemoteItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*fs.RemoteItem
	err := s.conn.View(func(tx *bbolt.Tx) error {
		if _, err := getFolder(tx, folderID); err != nil {
			return err
		}
		cb := tx.Bucket([]byte(childrenBucket)).Bucket([]byte(folderID))
		if cb == nil {
			return nil
		}
		return cb.ForEach(func(_, v []byte) error {
			obj, err := getObject(tx, string(v))
			if err != nil {
				return fmt.Errorf("child %s of %s: %w", v, folderID, err)
			}
			items = append(items, obj.Item())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list %s: %w", folderID, err)
	}
	return items, nil
}

func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	obj := &Object{
		ID:           uuid.NewString(),
		ParentID:     parentID,
		Name:         name,
		IsFolder:     true,
		ModifiedTime: meta.ToRemoteFormat(meta.FromTime(s.now())),
	}
	if err := s.conn.Update(func(tx *bbolt.Tx) error {
		return insertChild(tx, obj, nil)
	}); err != nil {
		return "", fmt.Errorf("bolt: create folder %q in %s: %w", name, parentID, err)
	}
	return obj.ID, nil
}

// UploadNew 在 parentID 下新建文件
func (s *Store) UploadNew(ctx context.Context, name, parentID string, content io.Reader, modifiedTime string) (string, error) {
	data, err := readAll(ctx, content)
	if err != nil {
		return "", fmt.Errorf("bolt: upload %q: %w", name, err)
	}
	obj := &Object{
		ID:           uuid.NewString(),
		ParentID:     parentID,
		Name:         name,
		Size:         int64(len(data)),
		ModifiedTime: s.stamp(modifiedTime),
	}
	if err := s.conn.Update(func(tx *bbolt.Tx) error {
		return insertChild(tx, obj, data)
	}); err != nil {
		return "", fmt.Errorf("bolt: upload %q to %s: %w", name, parentID, err)
	}
	return obj.ID, nil
}

// Update 原地替换文件内容
func (s *Store) Update(ctx context.Context, id string, content io.Reader, modifiedTime string) (string, error) {
	data, err := readAll(ctx, content)
	if err != nil {
		return "", fmt.Errorf("bolt: update %s: %w", id, err)
	}
	err = s.conn.Update(func(tx *bbolt.Tx) error {
		obj, err := getObject(tx, id)
		if err != nil {
			return err
		}
		if obj.IsFolder {
			return fmt.Errorf("%s is a folder", id)
		}
		obj.Size = int64(len(data))
		obj.ModifiedTime = s.stamp(modifiedTime)
		if err := putObject(tx, obj); err != nil {
			return err
		}
		return tx.Bucket([]byte(contentsBucket)).Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("bolt: update %s: %w", id, err)
	}
	return id, nil
}

// OpenStream 返回文件内容的拷贝
func (s *Store) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.conn.View(func(tx *bbolt.Tx) error {
		obj, err := getObject(tx, id)
		if err != nil {
			return err
		}
		if obj.IsFolder {
			return fmt.Errorf("%s is a folder", id)
		}
		// bbolt 返回的切片只在事务内有效
		data = bytes.Clone(tx.Bucket([]byte(contentsBucket)).Get([]byte(id)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", id, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete 删除文件或整个文件夹子树
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == RootID {
		return fmt.Errorf("bolt: refusing to delete the root folder")
	}
	err := s.conn.Update(func(tx *bbolt.Tx) error {
		obj, err := getObject(tx, id)
		if err != nil {
			return err
		}
		if cb := tx.Bucket([]byte(childrenBucket)).Bucket([]byte(obj.ParentID)); cb != nil {
			if err := cb.Delete(seqKey(obj.Seq)); err != nil {
				return err
			}
		}
		return deleteTree(tx, obj)
	})
	if err != nil {
		return fmt.Errorf("bolt: delete %s: %w", id, err)
	}
	return nil
}

// stamp keeps the caller's timestamp, or uses now when none was given.
func (s *Store) stamp(modifiedTime string) string {
	if modifiedTime != "" {
		return modifiedTime
	}
	return meta.ToRemoteFormat(meta.FromTime(s.now()))
}

func insertChild(tx *bbolt.Tx, obj *Object, data []byte) error {
	if _, err := getFolder(tx, obj.ParentID); err != nil {
		return err
	}
	cb, err := tx.Bucket([]byte(childrenBucket)).CreateBucketIfNotExists([]byte(obj.ParentID))
	if err != nil {
		return err
	}
	seq, err := cb.NextSequence()
	if err != nil {
		return err
	}
	obj.Seq = seq
	if err := cb.Put(seqKey(seq), []byte(obj.ID)); err != nil {
		return err
	}
	if err := putObject(tx, obj); err != nil {
		return err
	}
	if obj.IsFolder {
		return nil
	}
	return tx.Bucket([]byte(contentsBucket)).Put([]byte(obj.ID), data)
}

func deleteTree(tx *bbolt.Tx, obj *Object) error {
	if obj.IsFolder {
		children := tx.Bucket([]byte(childrenBucket))
		if cb := children.Bucket([]byte(obj.ID)); cb != nil {
			var ids []string
			if err := cb.ForEach(func(_, v []byte) error {
				ids = append(ids, string(v))
				return nil
			}); err != nil {
				return err
			}
			for _, childID := range ids {
				child, err := getObject(tx, childID)
				if err != nil {
					return err
				}
				if err := deleteTree(tx, child); err != nil {
					return err
				}
			}
			if err := children.DeleteBucket([]byte(obj.ID)); err != nil {
				return err
			}
		}
	} else if err := tx.Bucket([]byte(contentsBucket)).Delete([]byte(obj.ID)); err != nil {
		return err
	}
	return tx.Bucket([]byte(objectsBucket)).Delete([]byte(obj.ID))
}

func getObject(tx *bbolt.Tx, id string) (*Object, error) {
	v := tx.Bucket([]byte(objectsBucket)).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("%s: %w", id, fs.ErrNotFound)
	}
	var obj Object
	if err := json.Unmarshal(v, &obj); err != nil {
		return nil, fmt.Errorf("解析数据失败 key=%s: %w", id, err)
	}
	return &obj, nil
}

func getFolder(tx *bbolt.Tx, id string) (*Object, error) {
	obj, err := getObject(tx, id)
	if err != nil {
		return nil, err
	}
	if !obj.IsFolder {
		return nil, fmt.Errorf("%s: %w", id, fs.ErrNotFolder)
	}
	return obj, nil
}

func putObject(tx *bbolt.Tx, obj *Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	return tx.Bucket([]byte(objectsBucket)).Put([]byte(obj.ID), data)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
