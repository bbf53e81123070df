package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"
)

// Version はビルド時に -ldflags で埋め込まれるバージョン文字列
var Version = "dev"

// VersionAction はバージョン情報を表示するコマンドのアクション
func VersionAction(_ context.Context, _ *cli.Command) error {
	fmt.Printf("lex-ingest %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return nil
}
