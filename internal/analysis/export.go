package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/clarus/internal/model"
)

// エクスポート形式
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Export は保存済みライブラリを指定形式で書き出し、内容とContent-Typeを返す。
// 形式が空の場合はJSONとする。
func (s *Service) Export(ctx context.Context, scope, format string) ([]byte, string, error) {
	saved := s.store.ListSaved(ctx, scope)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		b, err := json.MarshalIndent(saved, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("JSONへの変換に失敗しました: %w", err)
		}
		return b, "application/json", nil
	case FormatYAML, "yml":
		b, err := yaml.Marshal(exportDocument{Analyses: saved})
		if err != nil {
			return nil, "", fmt.Errorf("YAMLへの変換に失敗しました: %w", err)
		}
		return b, "application/yaml", nil
	default:
		return nil, "", model.NewUnsupportedFormatError(format)
	}
}

type exportDocument struct {
	Analyses []model.Analysis `yaml:"analyses"`
}
