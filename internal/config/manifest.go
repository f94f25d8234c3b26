package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile 是 YAML 清单文件的结构：一组部署期固定的资源路径。
type manifestFile struct {
	Resources []string `yaml:"resources"`
}

// LoadManifest 读取并校验 YAML 资源清单，保持文件中的顺序。
func LoadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}

	if err := ValidateManifest(mf.Resources); err != nil {
		return nil, err
	}
	return mf.Resources, nil
}

// ValidateManifest 校验清单条目：必须是以 / 开头的站内路径，
// 不含空格与协议头，且不允许重复条目。
func ValidateManifest(entries []string) error {
	if len(entries) == 0 {
		return newFieldError("resources", "清单不能为空")
	}

	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		field := fmt.Sprintf("resources[%d]", i)
		if entry == "" {
			return newFieldError(field, "不能为空")
		}
		if !strings.HasPrefix(entry, "/") {
			return newFieldError(field, "必须以 / 开头")
		}
		if strings.Contains(entry, " ") {
			return newFieldError(field, "不允许包含空格")
		}
		if strings.Contains(entry, "://") {
			return newFieldError(field, "不允许包含协议头")
		}
		if _, dup := seen[entry]; dup {
			return newFieldError(field, "重复条目: "+entry)
		}
		seen[entry] = struct{}{}
	}
	return nil
}
