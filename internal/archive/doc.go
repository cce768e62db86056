// Package archive persists every item the merge store accepts.
//
// Items are batched and written with pgx.Batch; the insert uses
// ON CONFLICT (id) DO NOTHING, so the first copy written wins on disk just as
// it does in memory. The writer is append-only.
package archive
