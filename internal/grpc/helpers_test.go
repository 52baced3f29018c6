package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

func metadataContext(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, token))
}
