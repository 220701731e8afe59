package logfields

import "go.uber.org/zap"

func Source(val string) zap.Field {
	return zap.String("git.source", val)
}

func Ref(val string) zap.Field {
	return zap.String("git.ref", val)
}

func BaseBranch(val string) zap.Field {
	return zap.String("git.base_branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Round(val int) zap.Field {
	return zap.Int("round", val)
}

func Stamp(val string) zap.Field {
	return zap.String("stamp", val)
}
