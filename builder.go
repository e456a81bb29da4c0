package flowline

import (
	"fmt"

	"github.com/flowlinehq/flowline/pkg/api"
)

// FlowBuilder provides a fluent API for declaring flows:
//
//	flow := flowline.New("Daily Sales ETL").
//	    Description("Extract, clean and load yesterday's sales").
//	    Tag("team", "data-engineering").
//	    Tasks(fetchConnection, extractSales, cleanFrame, loadWarehouse).
//	    Bind(dailySalesETL)
//
//	if err := flow.Register(client); err != nil {
//	    log.Fatal(err)
//	}
//
// Tasks is optional: without it the flow body's source is scanned for
// calls to declared tasks.
type FlowBuilder struct {
	opts api.FlowOptions
	fn   api.FlowFunc
}

// New creates a flow builder with the given name.
func New(name string) *FlowBuilder {
	if name == "" {
		panic("flowline: flow name must not be empty")
	}
	return &FlowBuilder{opts: api.FlowOptions{Name: name}}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.opts.Name
}

// Description sets the human description sent on registration.
func (b *FlowBuilder) Description(text string) *FlowBuilder {
	b.opts.Description = text
	return b
}

// Tag attaches one metadata tag.
func (b *FlowBuilder) Tag(key, value string) *FlowBuilder {
	if b.opts.Tags == nil {
		b.opts.Tags = make(map[string]string)
	}
	b.opts.Tags[key] = value
	return b
}

// AutoTrigger asks the backend to trigger the flow right after
// registration, under the named configuration.
func (b *FlowBuilder) AutoTrigger(configuration string) *FlowBuilder {
	b.opts.AutoTrigger = true
	b.opts.AutoTriggerConfig = configuration
	return b
}

// Tasks lists the declared task functions this flow uses, in order,
// bypassing source scanning. Either the original or the wrapped form
// may be listed.
func (b *FlowBuilder) Tasks(fns ...TaskFunc) *FlowBuilder {
	b.opts.Tasks = append(b.opts.Tasks, fns...)
	return b
}

// Bind sets the flow body.
func (b *FlowBuilder) Bind(fn FlowFunc) *FlowBuilder {
	if fn == nil {
		panic(fmt.Sprintf("flowline: flow %q has nil function", b.opts.Name))
	}
	b.fn = fn
	return b
}

// Register declares the flow on the client. Bind must have been called.
func (b *FlowBuilder) Register(c *Client) error {
	if b.fn == nil {
		return fmt.Errorf("flow %q has no body bound", b.opts.Name)
	}
	_, err := c.registry.DeclareFlow(b.fn, b.opts)
	return err
}

// MustRegister registers the flow and panics on error.
func (b *FlowBuilder) MustRegister(c *Client) {
	if err := b.Register(c); err != nil {
		panic(err)
	}
}
