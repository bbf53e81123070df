package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/lex-ingest/cmd/lex-ingest/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "lex-ingest",
		Usage: "法令コーパスのチャンク分割・Embedding取り込みパイプライン",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "ドキュメント取り込みコマンド",
				Commands: []*cli.Command{
					{
						Name:  "file",
						Usage: "単一ファイルを取り込む",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "root",
								Usage: "コーパスのルートディレクトリ",
								Value: ".",
							},
							&cli.StringFlag{
								Name:     "path",
								Usage:    "ルートからの相対パス",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "namespace",
								Usage: "取り込み先の名前空間",
							},
						},
						Action: commands.IngestFileAction,
					},
					{
						Name:  "dir",
						Usage: "ディレクトリ配下の全ファイルを取り込む",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "root",
								Usage: "コーパスのルートディレクトリ",
								Value: ".",
							},
							&cli.StringFlag{
								Name:  "namespace",
								Usage: "取り込み先の名前空間",
							},
							&cli.IntFlag{
								Name:  "concurrency",
								Usage: "同時に取り込むドキュメント数",
							},
						},
						Action: commands.IngestDirAction,
					},
				},
			},
			{
				Name:   "version",
				Usage:  "バージョン情報を表示",
				Action: commands.VersionAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
