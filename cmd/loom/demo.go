package main

import (
	"strconv"

	"github.com/loomdev/loom/pkg/app"
)

// demoApp is the application served by `loom serve`: a counter, a
// text field, and a collapsible help panel showing a learned
// stateless toggle.
type demoApp struct {
	count int
}

func demoFactory(env *app.Environment) (app.Application, error) {
	return &demoApp{}, nil
}

func (d *demoApp) Init(ctx *app.Context) error {
	tr := ctx.Tree

	title := tr.Create("h1")
	tr.SetText(title, "Loom demo")

	counter := tr.Create("span")
	tr.SetText(counter, "0")

	button := tr.Create("button")
	tr.SetText(button, "Increment")
	ctx.Reg.Connect(tr.Get(button), "clicked", func(ev app.Event) {
		d.count++
		tr.SetText(counter, strconv.Itoa(d.count))
	})

	echo := tr.Create("p")
	field := tr.Create("input")
	ctx.Reg.ConnectChanged(tr.Get(field), "changed", func(ev app.Event) {
		tr.SetText(echo, ev.Params.Get("value"))
	})

	help := tr.Create("div")
	tr.SetText(help, "Click the button to count.")
	tr.SetAttr(help, "class", "loom-hidden")
	toggle := tr.Create("button")
	tr.SetText(toggle, "Help")
	ctx.Reg.ConnectStateless(tr.Get(toggle), "clicked", app.StatelessSpec{
		Invoke: func() { tr.RemoveAttr(help, "class") },
		Undo:   func() { tr.SetAttr(help, "class", "loom-hidden") },
	})

	root := tr.Root()
	if err := tr.Append(root, title); err != nil {
		return err
	}
	if err := tr.Append(root, counter); err != nil {
		return err
	}
	if err := tr.Append(root, button); err != nil {
		return err
	}
	if err := tr.Append(root, field); err != nil {
		return err
	}
	if err := tr.Append(root, echo); err != nil {
		return err
	}
	if err := tr.Append(root, toggle); err != nil {
		return err
	}
	if err := tr.Append(root, help); err != nil {
		return err
	}
	return nil
}

func (d *demoApp) Destroy() {}
