package esclient_test

import (
	"github.com/google/uuid"

	"github.com/terraskye/esclient"
)

type cartOpened struct {
	esclient.Base
	Owner string `json:"owner"`
}

func (*cartOpened) EventType() string { return "CartOpened" }

type itemAdded struct {
	esclient.Base
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func (*itemAdded) EventType() string { return "ItemAdded" }

type cartClosed struct {
	esclient.Base
}

func (*cartClosed) EventType() string { return "CartClosed" }

// unregistered is a valid event no test codec knows about.
type unregistered struct {
	esclient.Base
}

func (*unregistered) EventType() string { return "Unregistered" }

func newCodec() *esclient.Codec {
	return esclient.NewCodec(
		func() esclient.Event { return &cartOpened{} },
		func() esclient.Event { return &itemAdded{} },
		func() esclient.Event { return &cartClosed{} },
	)
}

func opened(id uuid.UUID, owner string) *cartOpened {
	return &cartOpened{Base: esclient.NewBase(id), Owner: owner}
}

func added(id uuid.UUID, item string) *itemAdded {
	return &itemAdded{Base: esclient.NewBase(id), Item: item, Quantity: 1}
}
