package pipeline

import "fmt"

// PipelineAddin is the plugin contract: on load, attach a related group of
// stages to a pipeline; on unload, detach them. Addin discovery and
// dependency resolution are out of scope — a host simply constructs an
// addin and calls Pipeline.RegisterAddin.
type PipelineAddin interface {
	// Load attaches this addin's stages to p and should call Track for
	// every id returned by Attach/AttachLauncher, so Unload can detach
	// them symmetrically.
	Load(p *Pipeline) error

	// Unload detaches every id this addin tracked.
	Unload(p *Pipeline) error
}

// AddinBase gives a PipelineAddin the Track/Unload bookkeeping described by
// the contract above; embed it and call Track from Load.
type AddinBase struct {
	tracked []EntryID
}

// Track remembers an attached entry id so Unload can detach it later.
func (a *AddinBase) Track(id EntryID) {
	if id == 0 {
		return
	}
	a.tracked = append(a.tracked, id)
}

// Unload detaches every tracked id, in reverse attachment order, and
// clears the tracked set.
func (a *AddinBase) Unload(p *Pipeline) error {
	for i := len(a.tracked) - 1; i >= 0; i-- {
		p.Detach(a.tracked[i])
	}
	a.tracked = nil
	return nil
}

// RegisterAddin loads addin immediately and remembers it, so that Close
// can unload every still-registered addin (in reverse registration order)
// before the pipeline's own state is discarded. This stands in for a host
// application's plugin-extension-set machinery.
func (p *Pipeline) RegisterAddin(addin PipelineAddin) error {
	if err := addin.Load(p); err != nil {
		return fmt.Errorf("loading addin: %w", err)
	}

	p.addinMu.Lock()
	p.addins = append(p.addins, addin)
	p.addinMu.Unlock()

	return nil
}

// UnregisterAddin unloads addin immediately and forgets it.
func (p *Pipeline) UnregisterAddin(addin PipelineAddin) error {
	p.addinMu.Lock()
	for i, a := range p.addins {
		if a == addin {
			p.addins = append(p.addins[:i], p.addins[i+1:]...)
			break
		}
	}
	p.addinMu.Unlock()

	return addin.Unload(p)
}

// Close unloads every still-registered addin, in reverse registration
// order, before discarding the pipeline's own state — so every addin sees
// Unload before the pipeline it was attached to goes away.
func (p *Pipeline) Close() error {
	p.addinMu.Lock()
	addins := append([]PipelineAddin{}, p.addins...)
	p.addins = nil
	p.addinMu.Unlock()

	var firstErr error
	for i := len(addins) - 1; i >= 0; i-- {
		if err := addins[i].Unload(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
