package store

import "github.com/hitoshi/clarus/internal/model"

// Search は OriginalText または Summary に query を含む分析を元の順序で返す。
// 大文字小文字は区別しない。空の query は list をそのまま返す。
func Search(list []model.Analysis, query string) []model.Analysis {
	out := make([]model.Analysis, 0, len(list))
	for i := range list {
		if list[i].Matches(query) {
			out = append(out, list[i])
		}
	}
	return out
}

// FindByID は list から指定IDの分析を探す。
func FindByID(list []model.Analysis, id string) (model.Analysis, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return model.Analysis{}, false
}
