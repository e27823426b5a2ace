// Command clarus はファクトチェック分析APIサーバーとURL抽出ブリッジを起動する。
//
//	clarus [serve]            APIサーバー（既定）
//	clarus scrape             URL抽出ブリッジ
//	clarus migrate            Postgresスキーマの適用
//	clarus healthcheck [scrape]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/clarus/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clarus: %v\n", err)
		os.Exit(1)
	}
}
