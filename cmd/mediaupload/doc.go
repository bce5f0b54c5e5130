// Command mediaupload uploads files to a media pipeline server.
//
// Usage:
//
//	mediaupload [flags] <file>...
//
// Files above the chunking threshold are sent in fixed-size chunks. Each
// acknowledged chunk is recorded in a local SQLite ledger, so a run that is
// interrupted resumes where it stopped. Failed files are retried with
// exponential backoff; distinct files upload in parallel.
//
// Flags:
//
//	-server     Server base URL (default: $MEDIA_SERVER or http://localhost:8080)
//	-ledger     Resume ledger path (default: user cache dir); empty disables resume
//	-workers    Files uploaded in parallel (default: 3)
//	-cancel     Discard partial uploads of the given files
//	-list       List interrupted uploads in the ledger; takes no files
//	-chunk-size Chunk length; a resume must use the size the upload began with
//	-title, -category, -tags
//	            Metadata stored with every file
//	-v          Debug logging
//
// On a terminal progress is redrawn on one line; otherwise a line is printed
// at each quarter. The exit status is 1 when any upload fails.
package main
