package config

import (
	"strings"

	"github.com/BaSui01/webstarter/types"
)

// =============================================================================
// 🌍 运行环境
// =============================================================================

// AppEnv 运行环境
type AppEnv string

const (
	// EnvLocal 本地环境
	EnvLocal AppEnv = "local"
	// EnvDevelopment 开发环境
	EnvDevelopment AppEnv = "development"
	// EnvProduction 生产环境
	EnvProduction AppEnv = "production"
)

// ParseAppEnv 解析环境取值,大小写不敏感,接受常见别名。
// 无法识别的取值返回校验错误,启动即失败。
func ParseAppEnv(s string) (AppEnv, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return EnvLocal, nil
	case "dev", "development":
		return EnvDevelopment, nil
	case "prod", "production":
		return EnvProduction, nil
	default:
		return "", types.NewError(types.ErrValidation, "unrecognized APP_ENV value: "+s)
	}
}

// IsLocal 是否本地环境
func (e AppEnv) IsLocal() bool { return e == EnvLocal }

// IsProduction 是否生产环境
func (e AppEnv) IsProduction() bool { return e == EnvProduction }

// String 实现 fmt.Stringer
func (e AppEnv) String() string { return string(e) }
