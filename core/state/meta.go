package state

// Meta flags are one-shot markers outside the record tables, used to guard
// operations that must run at most once per database (genesis allocations).

type storedFlag struct {
	Set bool
}

func flagKey(name string) []byte {
	return prefixedKey(metaPrefix, []byte(name))
}

// Flag reports whether the named marker has been set.
func (t *Txn) Flag(name string) (bool, error) {
	var stored storedFlag
	ok, err := t.kvGet(flagKey(name), &stored)
	if err != nil {
		return false, err
	}
	return ok && stored.Set, nil
}

// SetFlag stages the named marker.
func (t *Txn) SetFlag(name string) error {
	return t.kvPut(flagKey(name), &storedFlag{Set: true})
}
