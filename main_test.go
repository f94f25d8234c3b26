package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// useBufferWriters 将全局输出替换为内存缓冲，测试结束后自动恢复。
func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = outBuf, errBuf
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return outBuf, errBuf
}

// writeConfigFixture 在临时目录生成一份可用配置，返回配置文件路径。
func writeConfigFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`ListenPort = 8090
LogLevel = "info"
StoragePath = %q
Origin = "http://origin.local"
Generation = "v1"
Manifest = ["/index.html"]
`, filepath.Join(dir, "storage"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	t.Setenv("PAGE_SHELF_CONFIG", "")
	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径错误: %s", opts.configPath)
	}
	if opts.checkOnly || opts.showVersion {
		t.Fatalf("默认不应开启 check/version")
	}
}

func TestParseCLIFlagsEnvOverride(t *testing.T) {
	t.Setenv("PAGE_SHELF_CONFIG", "/etc/page-shelf/config.toml")
	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}
	if opts.configPath != "/etc/page-shelf/config.toml" {
		t.Fatalf("环境变量未生效: %s", opts.configPath)
	}
}

func TestParseCLIFlagsFlagBeatsEnv(t *testing.T) {
	t.Setenv("PAGE_SHELF_CONFIG", "/etc/page-shelf/config.toml")
	opts, err := parseCLIFlags([]string{"-config", "./custom.toml", "-check-config"})
	if err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}
	if opts.configPath != "./custom.toml" {
		t.Fatalf("命令行参数应优先于环境变量: %s", opts.configPath)
	}
	if !opts.checkOnly {
		t.Fatalf("check-config 标志未解析")
	}
}

func TestParseCLIFlagsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"-unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunVersion(t *testing.T) {
	outBuf, _ := useBufferWriters(t)

	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("版本输出应返回 0, got %d", code)
	}
	if !strings.Contains(outBuf.String(), "page-shelf") {
		t.Fatalf("版本输出内容错误: %s", outBuf.String())
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	path := writeConfigFixture(t)

	code := run(cliOptions{configPath: path, checkOnly: true})
	if code != 0 {
		t.Fatalf("合法配置校验应返回 0, got %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)

	code := run(cliOptions{configPath: filepath.Join(t.TempDir(), "absent.toml"), checkOnly: true})
	if code != 1 {
		t.Fatalf("缺失配置应返回 1, got %d", code)
	}
	if errBuf.Len() == 0 {
		t.Fatalf("错误信息应写入 stderr")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	_, errBuf := useBufferWriters(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("Origin = \"ftp://x\"\nGeneration = \"v1\"\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	code := run(cliOptions{configPath: path})
	if code != 1 {
		t.Fatalf("非法配置应返回 1, got %d", code)
	}
	if !strings.Contains(errBuf.String(), "加载配置失败") {
		t.Fatalf("错误信息缺失: %s", errBuf.String())
	}
}
