package logging

import (
	"context"
)

type contextKey string

const (
	MessageIDKey  contextKey = "message_id"
	CommonNameKey contextKey = "common_name"
	EndpointKey   contextKey = "endpoint"
)

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithCommonName(ctx context.Context, commonName string) context.Context {
	return context.WithValue(ctx, CommonNameKey, commonName)
}

func WithEndpoint(ctx context.Context, uri string) context.Context {
	return context.WithValue(ctx, EndpointKey, uri)
}

func GetMessageID(ctx context.Context) string {
	if v, ok := ctx.Value(MessageIDKey).(string); ok {
		return v
	}
	return ""
}

func GetCommonName(ctx context.Context) string {
	if v, ok := ctx.Value(CommonNameKey).(string); ok {
		return v
	}
	return ""
}

func GetEndpoint(ctx context.Context) string {
	if v, ok := ctx.Value(EndpointKey).(string); ok {
		return v
	}
	return ""
}

// Fields flattens the known context values into zap key-value pairs.
func Fields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if id := GetMessageID(ctx); id != "" {
		fields = append(fields, "message_id", id)
	}

	if cn := GetCommonName(ctx); cn != "" {
		fields = append(fields, "common_name", cn)
	}

	if uri := GetEndpoint(ctx); uri != "" {
		fields = append(fields, "endpoint", uri)
	}

	return fields
}
