package gateway

// QuerySince filters on start >= since.
func QuerySince(since string) Query {
	return Query{"start": map[string]any{"$gte": since}}
}

// QueryRange filters on start >= from and, when until is set, start <= until.
func QueryRange(from, until string) Query {
	cond := map[string]any{"$gte": from}
	if until != "" {
		cond["$lte"] = until
	}
	return Query{"start": cond}
}
