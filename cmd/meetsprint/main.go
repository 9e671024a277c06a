// meetsprint はMeetSprintのバックエンドを起動する。
//
//	meetsprint [serve]          APIサーバー
//	meetsprint worker           期限切れセッションのクリーンアップ
//	meetsprint migrate [--down N]
//	meetsprint healthcheck [--port P]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/meetsprint/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
