package app

// Command はアプリケーションの起動モードを表す。
// scrape はURL抽出ブリッジだけを単独で公開し、healthcheck は稼働中のプロセスに問い合わせる
// (シェルのないイメージ向け)。
type Command string

const (
	CommandServe       Command = "serve"
	CommandScrape      Command = "scrape"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がない場合や未知の値の場合は serve として扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandScrape, CommandMigrate, CommandHealthcheck:
		return cmd
	}
	return CommandServe
}

// healthcheckTarget は healthcheck コマンドの確認先URLを返す。
// 第2引数に scrape を指定した場合はURL抽出ブリッジを確認する。
func healthcheckTarget(args []string, getenv func(string) string) string {
	if len(args) > 1 && args[1] == string(CommandScrape) {
		port := getenv("SCRAPER_PORT")
		if port == "" {
			port = "8000"
		}
		return "http://localhost:" + port + "/healthz"
	}

	port := getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}
