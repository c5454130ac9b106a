package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"drivesync/internal/fs"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Client Google Drive v3 客户端, 实现 fs.RemoteStore
type Client struct {
	svc *drive.Service
}

var _ fs.RemoteStore = (*Client)(nil)

// NewClient 创建客户端. Extra options replace the configured auth; tests use
// them to point the client at a local endpoint.
func NewClient(ctx context.Context, opts *Options, extra ...option.ClientOption) (*Client, error) {
	var clientOpts []option.ClientOption
	if len(extra) == 0 {
		auth, err := authOption(ctx, opts)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, auth)
	}
	clientOpts = append(clientOpts, extra...)

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: new service: %w", err)
	}
	return &Client{svc: svc}, nil
}

func (c *Client) Name() string {
	return "gdrive"
}

// ListChildren 列出文件夹的直接子项, 自动翻页
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]*fs.RemoteItem, error) {
	var items []*fs.RemoteItem

	call := c.svc.Files.List().
		Q(childrenQuery(folderID)).
		Fields(listFields).
		PageSize(pageSize).
		Context(ctx)

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			if f.MimeType != FolderMimeType && isGoogleApp(f.MimeType) {
				// Docs/Sheets 没有二进制内容, 无法下载
				slog.Debug("跳过 Google 原生文档", "name", f.Name, "mimeType", f.MimeType)
				continue
			}
			items = append(items, toItem(f))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: list %s: %w", folderID, mapErr(err))
	}
	return items, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f, err := c.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gdrive: create folder %q in %s: %w", name, parentID, mapErr(err))
	}
	return f.Id, nil
}

// UploadNew 上传新文件, modifiedTime 写入 Drive 的 modifiedTime 字段
func (c *Client) UploadNew(ctx context.Context, name, parentID string, content io.Reader, modifiedTime string) (string, error) {
	f, err := c.svc.Files.Create(&drive.File{
		Name:         name,
		Parents:      []string{parentID},
		ModifiedTime: modifiedTime,
	}).Media(content).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gdrive: upload %q to %s: %w", name, parentID, mapErr(err))
	}
	return f.Id, nil
}

// Update 原地更新文件内容, 同时设置 modifiedTime
func (c *Client) Update(ctx context.Context, id string, content io.Reader, modifiedTime string) (string, error) {
	f, err := c.svc.Files.Update(id, &drive.File{
		ModifiedTime: modifiedTime,
	}).Media(content).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gdrive: update %s: %w", id, mapErr(err))
	}
	return f.Id, nil
}

// OpenStream 下载文件流, 调用者负责 Close
func (c *Client) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("gdrive: download %s: %w", id, mapErr(err))
	}
	return resp.Body, nil
}

// Delete 删除文件或文件夹 (永久删除, 不进回收站)
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gdrive: delete %s: %w", id, mapErr(err))
	}
	return nil
}

func toItem(f *drive.File) *fs.RemoteItem {
	return &fs.RemoteItem{
		ID:           f.Id,
		Name:         f.Name,
		IsFolder:     f.MimeType == FolderMimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
	}
}

// mapErr 把 404 映射为 fs.ErrNotFound, 其余原样返回
func mapErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", fs.ErrNotFound, gerr.Message)
	}
	return err
}
