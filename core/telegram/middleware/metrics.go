package middleware

import tele "gopkg.in/telebot.v4"

const repliesKey = "replies"

// replies counts what a handler sent back for the handler.handled line.
type replies struct {
	messages int
	keyboard bool
}

// countingContext counts successful sends and edits made through it.
type countingContext struct {
	tele.Context
	r *replies
}

func (c countingContext) count(err error, opts []any) error {
	if err != nil {
		return err
	}
	c.r.messages++
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			c.r.keyboard = c.r.keyboard || v != nil
		case *tele.SendOptions:
			c.r.keyboard = c.r.keyboard || (v != nil && v.ReplyMarkup != nil)
		}
	}
	return nil
}

func (c countingContext) Send(what any, opts ...any) error {
	return c.count(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what any, opts ...any) error {
	return c.count(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what any, opts ...any) error {
	return c.count(c.Context.Edit(what, opts...), opts)
}

func (c countingContext) EditOrSend(what any, opts ...any) error {
	return c.count(c.Context.EditOrSend(what, opts...), opts)
}

// MessageMetricsMiddleware hands the handler a context that counts replies.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		r := &replies{}
		c.Set(repliesKey, r)
		return next(countingContext{Context: c, r: r})
	}
}

// UpdateCounter reports the kind of every incoming update to observe.
func UpdateCounter(observe func(kind string)) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			observe(UpdateKind(c.Update()))
			return next(c)
		}
	}
}

// GetCounters returns the reply count and whether any reply carried a
// keyboard. Both are zero outside MessageMetricsMiddleware.
func GetCounters(c tele.Context) (int, bool) {
	if r, ok := c.Get(repliesKey).(*replies); ok {
		return r.messages, r.keyboard
	}
	return 0, false
}
