// Package source はローカルファイルシステムからのドキュメント取得を提供します
package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

const (
	// ignoreFileName はコーパスルートに置く除外パターンファイル
	ignoreFileName = ".lexignore"
	// confidenceSuffix は抽出信頼度サイドカーの拡張子
	// (OCRパイプラインが本文と並べて出力する)
	confidenceSuffix = ".confidence"
)

// 取り込み対象として認識する拡張子
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// FSAdapter はルートディレクトリ配下のテキストファイルをドキュメントとして提供します
// identifier はルートからの相対パスです
type FSAdapter struct {
	root   string
	ignore *gitignore.GitIgnore
	logger *slog.Logger
}

// NewFSAdapter は新しいFSAdapterを作成します
// ルート直下に .lexignore があれば除外パターンとして読み込みます
func NewFSAdapter(root string, logger *slog.Logger) (*FSAdapter, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root is not a directory: %s", root)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &FSAdapter{root: root, logger: logger}

	ignorePath := filepath.Join(root, ignoreFileName)
	if _, err := os.Stat(ignorePath); err == nil {
		matcher, err := gitignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ignoreFileName, err)
		}
		a.ignore = matcher
	}

	return a, nil
}

// Fetch は相対パスで指定されたファイルを読み込み、ドキュメントとして返します
// 読み込み失敗は ExtractionError として報告されます
func (a *FSAdapter) Fetch(ctx context.Context, identifier string) (*domain.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(a.root, filepath.FromSlash(identifier))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ExtractionError{Source: identifier, Err: err}
	}

	raw := string(data)
	normalized := domain.NormalizeText(raw)

	doc := &domain.SourceDocument{
		DocID:    docIDFor(identifier),
		RawText:  raw,
		Hints:    ScanHints(normalized),
		Language: "hr",
		Metadata: domain.SourceMetadata{
			"original_path": identifier,
			"title":         titleFor(identifier, normalized),
		},
	}

	if citation := ScanCitation(normalized); citation != "" {
		doc.Metadata["citation"] = citation
	}

	if conf, ok := a.readConfidence(path); ok {
		doc.Confidence = &conf
	}

	return doc, nil
}

// List は取り込み対象ファイルの相対パス列を辞書順で返します
// .lexignore に一致するパスとサイドカーファイルは除外されます
func (a *FSAdapter) List(ctx context.Context) ([]string, error) {
	var identifiers []string

	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if !textExtensions[filepath.Ext(path)] {
			return nil
		}

		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if a.ignore != nil && a.ignore.MatchesPath(rel) {
			a.logger.Debug("path excluded by ignore rules", "path", rel)
			return nil
		}

		identifiers = append(identifiers, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus root: %w", err)
	}

	return identifiers, nil
}

// readConfidence は "<path>.confidence" サイドカーから信頼度を読み取ります
// 欠損・解析不能の場合は信頼度なしとして扱います
func (a *FSAdapter) readConfidence(path string) (float64, bool) {
	data, err := os.ReadFile(path + confidenceSuffix)
	if err != nil {
		return 0, false
	}
	conf, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || conf < 0 || conf > 1 {
		a.logger.Warn("invalid confidence sidecar ignored", "path", path+confidenceSuffix)
		return 0, false
	}
	return conf, true
}

// docIDFor は相対パスから拡張子を除いたドキュメントIDを導出します
func docIDFor(identifier string) string {
	return strings.TrimSuffix(identifier, filepath.Ext(identifier))
}

// titleFor はテキスト先頭の非空行をタイトルとして採用します
// 本文が空の場合はファイル名にフォールバックします
func titleFor(identifier, normalized string) string {
	for _, line := range strings.Split(normalized, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	base := filepath.Base(identifier)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// インターフェース実装の確認
var _ domain.SourceAdapter = (*FSAdapter)(nil)
