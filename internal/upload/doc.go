// Package upload sends local files to the media server.
//
// Files at or below Config.Threshold go in one multipart request. Larger
// files are split into fixed-size chunks sent strictly in order; each
// acknowledged chunk is written to a ledger.Ledger before the next one is
// sent, so an interrupted upload resumes from the first unacknowledged
// chunk. After the last chunk the client either takes the record the server
// returned on assembly or calls finalize. Any failure retries the whole file
// with exponential backoff, starting again from the ledger.
package upload
