package util

import (
	"os/exec"
	"runtime"
)

// browserCommand 返回当前平台打开链接的命令
func browserCommand(goos, url string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		return exec.Command("open", url)
	default:
		return exec.Command("xdg-open", url)
	}
}

// fallbackBrowsers 主命令失败后依次尝试
var fallbackBrowsers = map[string][]string{
	"windows": {"explorer"},
	"linux":   {"google-chrome", "firefox", "chromium-browser", "sensible-browser"},
}

// OpenBrowser 在默认浏览器中打开选品页面
func OpenBrowser(url string) error {
	err := browserCommand(runtime.GOOS, url).Start()
	if err == nil {
		return nil
	}
	for _, name := range fallbackBrowsers[runtime.GOOS] {
		if exec.Command(name, url).Start() == nil {
			return nil
		}
	}
	return err
}
