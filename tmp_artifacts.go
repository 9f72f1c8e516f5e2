package zsel

// tmpArtifacts holds the temporary selector and key borrowed by one call.
// release must be deferred right after the value is created.
type tmpArtifacts struct {
	pool SelectorPool
	sel  Selector
	key  SelectionKey
}

// acquire borrows a selector and registers fd with it. It reports false with
// a nil error when the pool has nothing to lend right now, and
// ErrSelectorClosed when it never will.
func (t *tmpArtifacts) acquire(fd int, interest Interest) (ok bool, err error) {
	if t.sel = t.pool.Poll(); t.sel == nil {
		if !t.pool.IsOpen() {
			return false, ErrSelectorClosed
		}
		return false, nil
	}
	if t.key, err = t.sel.Register(fd, interest); err != nil {
		return false, err
	}
	return true, nil
}

func (t *tmpArtifacts) held() bool {
	return t.sel != nil
}

func (t *tmpArtifacts) release() {
	if t.sel == nil && t.key == nil {
		return
	}
	t.pool.Recycle(t.sel, t.key)
	t.sel, t.key = nil, nil
}
