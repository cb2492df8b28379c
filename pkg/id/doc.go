// Package id provides the 128-bit identifiers flobus assigns to local
// subscription streams.
//
// An ID is 16 bytes big-endian, [8 bytes ms_timestamp][8 bytes sequence], so
// byte order is creation order. IDs render as 32 hex characters and
// implement encoding.TextMarshaler for JSON output.
//
//	g := id.NewGenerator()
//	streamID := g.Next()
//	s := streamID.String()
//	back, _ := id.Parse(s)
package id
