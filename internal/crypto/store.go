package crypto

import (
	"context"
	"io"
	"log/slog"

	"drivesync/internal/fs"
)

// Store 包装一个远端存储: 上传时加密内容 (可选加密文件名), 下载与列出时解密.
// Timestamps pass through untouched.
type Store struct {
	inner        fs.RemoteStore
	key          []byte
	encryptNames bool
}

var _ fs.RemoteStore = (*Store)(nil)

func NewStore(inner fs.RemoteStore, key []byte, encryptNames bool) *Store {
	return &Store{inner: inner, key: key, encryptNames: encryptNames}
}

func (s *Store) Name() string {
	return "crypt+" + s.inner.Name()
}

func (s *Store) ListChildren(ctx context.Context, folderID string) ([]*fs.RemoteItem, error) {
	items, err := s.inner.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}

	out := make([]*fs.RemoteItem, 0, len(items))
	for _, it := range items {
		item := *it
		if !item.IsFolder {
			item.Size = PlainSize(item.Size)
		}
		if s.encryptNames {
			name, err := DecryptName(item.Name, s.key)
			if err != nil {
				// 不是本程序加密的名字, 原样保留
				slog.Debug("文件名解密失败, 使用原名", "name", item.Name, "err", err)
			} else {
				item.Name = name
			}
		}
		out = append(out, &item)
	}
	return out, nil
}

func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	storedName, err := s.storedName(name)
	if err != nil {
		return "", err
	}
	return s.inner.CreateFolder(ctx, storedName, parentID)
}

func (s *Store) UploadNew(ctx context.Context, name, parentID string, content io.Reader, modifiedTime string) (string, error) {
	storedName, err := s.storedName(name)
	if err != nil {
		return "", err
	}
	enc, err := NewEncryptReader(content, s.key)
	if err != nil {
		return "", err
	}
	return s.inner.UploadNew(ctx, storedName, parentID, enc, modifiedTime)
}

func (s *Store) Update(ctx context.Context, id string, content io.Reader, modifiedTime string) (string, error) {
	enc, err := NewEncryptReader(content, s.key)
	if err != nil {
		return "", err
	}
	return s.inner.Update(ctx, id, enc, modifiedTime)
}

func (s *Store) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := s.inner.OpenStream(ctx, id)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecryptReader(rc, s.key)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &readCloser{Reader: dec, Closer: rc}, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

func (s *Store) storedName(name string) (string, error) {
	if !s.encryptNames {
		return name, nil
	}
	return EncryptName(name, s.key)
}

type readCloser struct {
	io.Reader
	io.Closer
}
