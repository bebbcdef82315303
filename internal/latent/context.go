package latent

// Context is one model context vector in its canonical (1, D) form, plus
// the cache identity it was computed under. Pose-derived contexts carry an
// empty fingerprint and are never cached.
type Context struct {
	Values      []float32
	Fingerprint string
	CacheFile   string
}

// Dim returns D.
func (c *Context) Dim() int {
	return len(c.Values)
}

// Clone deep-copies the context so holders survive later mutation.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	return &Context{
		Values:      append([]float32(nil), c.Values...),
		Fingerprint: c.Fingerprint,
		CacheFile:   c.CacheFile,
	}
}
