//go:build !linux
// +build !linux

package vodfs

import (
	"context"
	"fmt"

	"github.com/ivgateway/ivproxy/internal/admin"
	"github.com/ivgateway/ivproxy/internal/materializer"
	"github.com/ivgateway/ivproxy/internal/model"
)

// Rescanner mirrors the linux build's type so the composition root
// compiles on both platforms.
type Rescanner func(ctx context.Context) ([]model.Item, error)

// Scanner is unavailable on non-Linux builds because VODFS currently
// depends on go-fuse.
type Scanner struct {
	MountPoint string
	AllowOther bool
	Mat        materializer.Interface
	Rescan     Rescanner
}

var _ admin.LibraryScanner = (*Scanner)(nil)

func (s *Scanner) Scan(ctx context.Context) error {
	return fmt.Errorf("vodfs scan is only supported on linux builds")
}

func (s *Scanner) Status() admin.ScanStatus {
	return admin.ScanStatus{LastError: "vodfs scan is only supported on linux builds"}
}
