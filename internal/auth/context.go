package auth

import "context"

type callerKey struct{}

// WithCaller 将已认证的钱包地址写入上下文。
func WithCaller(ctx context.Context, wallet string) context.Context {
	if wallet == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, wallet)
}

// CallerFromContext 返回当前请求的调用方钱包，匿名请求返回空串。
func CallerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	wallet, _ := ctx.Value(callerKey{}).(string)
	return wallet
}
