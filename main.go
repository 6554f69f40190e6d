package main

import (
	"context"
	"embed"
	"os"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"

	"augenblick/backend"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	app := backend.NewApp()

	// コマンドライン引数を保存
	args := os.Args

	err := wails.Run(&options.App{
		Title:     "augenblick",
		Width:     1100,
		Height:    760,
		MinWidth:  720,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 24, G: 24, B: 27, A: 1},
		OnStartup:        app.Startup,
		OnDomReady: func(ctx context.Context) {
			app.DomReady(ctx)
			// フロントエンドがイベントを購読してからファイルを開く
			if len(args) > 1 {
				go func() {
					time.Sleep(500 * time.Millisecond)
					app.OpenFileFromExternal(args[1])
				}()
			}
		},
		OnBeforeClose: app.BeforeClose,
		OnShutdown:    app.Shutdown,
		LogLevel:      logger.INFO,
		Bind: []interface{}{
			app,
		},
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     true,
			DisableWebViewDrop: false,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  true,
			},
			OnFileOpen: func(filePath string) {
				app.OpenFileFromExternal(filePath)
			},
		},
		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "augenblick-instance-lock",
			OnSecondInstanceLaunch: func(secondInstanceData options.SecondInstanceData) {
				app.BringToFront()

				if len(secondInstanceData.Args) > 0 {
					app.OpenFileFromExternal(secondInstanceData.Args[0])
				}
			},
		},
	})

	if err != nil {
		println("Error:", err.Error())
	}
}
