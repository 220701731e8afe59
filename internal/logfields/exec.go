package logfields

import (
	"strings"

	"go.uber.org/zap"
)

func Command(args ...string) zap.Field {
	return zap.String("command", strings.Join(args, " "))
}

func ExitCode(val int) zap.Field {
	return zap.Int("exit_code", val)
}

func URL(val string) zap.Field {
	return zap.String("http_url", val)
}
