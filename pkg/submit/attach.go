package submit

import "github.com/gabrielmiguelok/easyforms/pkg/forms"

// Attach wires the controller to a form state: the debounced change stream
// feeds the submit data, row removals re-index errors and, with precognition
// on, every field edit schedules a validation. Submit reads the live values
// so nothing typed inside the debounce window is lost. The returned func
// detaches the listeners.
func (c *Controller) Attach(state *forms.State) func() {
	c.mu.Lock()
	c.source = state.Values
	if c.order == nil {
		c.order = state.Registry().SortKeys
	}
	c.mu.Unlock()

	c.UpdateSubmitData(state.Values())

	detach := []func(){
		state.OnChange(c.UpdateSubmitData),
		state.OnRowRemoved(c.ReindexErrors),
	}
	if c.cfg.Precognition {
		detach = append(detach, state.OnFieldChange(func(key string, _ any) {
			c.ValidateField(key)
		}))
	}

	return func() {
		for _, fn := range detach {
			fn()
		}
		c.SetDataSource(nil)
	}
}
