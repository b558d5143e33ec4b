//go:build !sqlite
// +build !sqlite

package directory

import (
	"errors"

	logx "pushbridge/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite directory not built: build with -tags sqlite")
}
