package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[strings.ToLower(strings.TrimSpace(g.StoreBackend))]; !ok {
		return newFieldError("StoreBackend", "仅支持 fs|leveldb")
	}
	if g.PreloadConcurrency < 0 {
		return newFieldError("PreloadConcurrency", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	if err := validateGeneration(g.Generation); err != nil {
		return fmt.Errorf("Generation: %w", err)
	}

	if g.ManifestPath != "" && len(g.Manifest) > 0 {
		return newFieldError("Manifest/ManifestPath", "只能指定其中之一")
	}
	if len(g.Manifest) > 0 {
		if err := ValidateManifest(g.Manifest); err != nil {
			return fmt.Errorf("Manifest: %w", err)
		}
	}

	return nil
}

func validateOrigin(origin string) error {
	if origin == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("无法解析: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}

func validateGeneration(generation string) error {
	if generation == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(generation, "/\\: ") {
		return errors.New("不允许包含路径分隔符或空格")
	}
	if generation == "." || generation == ".." {
		return errors.New("非法名称")
	}
	return nil
}
