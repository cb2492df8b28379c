package keyspace

// Key layout:
// - idseq bitmap, prefixed:   {prefix}:idseq:{id}
// - idseq bitmap, unprefixed: idseq:{id}
// - channel, prefixed:        {prefix} {channel}

var (
	idSeqSeg       = []byte("idseq:")
	idSeqPrefixSep = byte(':')
	channelSep     = byte(' ')
)

// IDSeqPrefix returns the key prefix for allocator bitmaps. The separator
// before the idseq segment is only present when a tenant prefix is set.
func IDSeqPrefix(prefix string) string {
	k := make([]byte, 0, len(prefix)+len(idSeqSeg)+1)
	if prefix != "" {
		k = append(k, prefix...)
		k = append(k, idSeqPrefixSep)
	}
	k = append(k, idSeqSeg...)
	return string(k)
}

// IDSeqKey builds the bitmap key for one identifier.
func IDSeqKey(prefix, id string) string {
	return IDSeqPrefix(prefix) + id
}

// Channel returns the store channel name for a logical channel.
func Channel(prefix, channel string) string {
	if prefix == "" {
		return channel
	}
	k := make([]byte, 0, len(prefix)+len(channel)+1)
	k = append(k, prefix...)
	k = append(k, channelSep)
	k = append(k, channel...)
	return string(k)
}

// Channels maps Channel over a list, returning a new slice.
func Channels(prefix string, channels []string) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = Channel(prefix, ch)
	}
	return out
}
