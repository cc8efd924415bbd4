package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"bpm-key-analyzer/internal/logging"

	"github.com/google/uuid"
)

// ErrBadStatus 服务器返回非 2xx 状态码
var ErrBadStatus = errors.New("下载失败")

// DefaultTimeout 单次下载超时
const DefaultTimeout = 5 * time.Minute

// IsRemote 判断参数是否为 http(s) 地址
func IsRemote(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Downloader 远程音频下载器
type Downloader struct {
	Client *http.Client
	Dir    string // 临时目录，空则使用 os.TempDir()
}

// NewDownloader 创建下载器
func NewDownloader() *Downloader {
	return &Downloader{Client: &http.Client{Timeout: DefaultTimeout}}
}

// Download 把远程文件完整写入临时文件并关闭。
// 返回的 cleanup 删除临时文件，出错时临时文件已被删除。
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", noop, fmt.Errorf("无效的URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", noop, fmt.Errorf("创建请求失败: %w", err)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("请求 %s 失败: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", noop, fmt.Errorf("%w: %s 返回 %s", ErrBadStatus, rawURL, resp.Status)
	}

	// 保留扩展名，解码器依靠它选择格式
	tmp, err := os.CreateTemp(d.Dir, "bpm-key-"+uuid.NewString()+"-*"+strings.ToLower(path.Ext(u.Path)))
	if err != nil {
		return "", noop, fmt.Errorf("创建临时文件失败: %w", err)
	}
	name := tmp.Name()
	cleanup := func() {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("删除临时文件失败", logging.Fields{"path": name, "error": err.Error()})
		}
	}

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("写入临时文件失败: %w", err)
	}

	logging.Debug("远程文件已下载", logging.Fields{"url": rawURL, "path": name, "bytes": n})
	return name, cleanup, nil
}
