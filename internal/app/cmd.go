package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はemututorのサブコマンド。
type Command string

const (
	// CommandServe はチュートリアルAPIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はYouTubeチャンネル等のフィードから投稿を取り込む。
	CommandWorker Command = "worker"
	// CommandMigrate はPostgreSQLのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIの/healthを叩く。distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrUnknownCommand は未対応のサブコマンドが指定された場合に返される。
var ErrUnknownCommand = errors.New("unknown command")

var commandSummaries = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "run the tutorial API (default)"},
	{CommandWorker, "import tutorials from configured feeds"},
	{CommandMigrate, "apply PostgreSQL migrations"},
	{CommandHealthcheck, "check the local API health endpoint"},
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決める。
// 引数がなければserve。未対応の名前は起動せずにErrUnknownCommandを返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := strings.TrimSpace(args[0])
	for _, c := range commandSummaries {
		if string(c.cmd) == name {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("%w %q\n%s", ErrUnknownCommand, args[0], Usage())
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: emututor [command]\n\ncommands:\n")
	for _, c := range commandSummaries {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.summary)
	}
	return b.String()
}
