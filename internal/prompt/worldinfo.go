package prompt

// WorldInfoResult is the lore fragment set injected around the story string.
type WorldInfoResult struct {
	Before   string
	After    string
	Combined string
}

// WorldInfoProvider matches chat history against a lore book and produces the
// three prompt fragments. Implementations live outside the core pipeline.
type WorldInfoProvider interface {
	Lookup(historyLines []string) WorldInfoResult
}

// NullWorldInfo is the provider used when no lore book is loaded.
type NullWorldInfo struct{}

// Lookup implements WorldInfoProvider.
func (NullWorldInfo) Lookup([]string) WorldInfoResult {
	return WorldInfoResult{}
}
