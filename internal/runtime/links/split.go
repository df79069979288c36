package links

import (
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/link"
)

// SplitLink sends operations matching cond down left and the rest down right.
// Both sides must end in a terminal link.
func SplitLink(cond func(op link.Operation) bool, left, right []link.Link) link.Link {
	return func(rt *link.Runtime) link.OperationLink {
		l := link.Bind(rt, left)
		r := link.Bind(rt, right)
		return func(c link.Call) {
			if cond(c.Op) {
				link.Forward(c, l)
				return
			}
			link.Forward(c, r)
		}
	}
}

// IsSubscription matches subscription operations.
func IsSubscription(op link.Operation) bool {
	return op.Type == envelope.Subscription
}
