package cont

import (
	"context"

	"clanity/entity"
)

type ctxKey string

const ClientDataKey ctxKey = "clientData"

func PutClient(c context.Context, client *entity.Client) context.Context {
	return context.WithValue(c, ClientDataKey, *client)
}

func GetClient(c context.Context) *entity.Client {
	client, ok := c.Value(ClientDataKey).(entity.Client)
	if !ok {
		return &entity.Client{}
	}
	return &client
}
