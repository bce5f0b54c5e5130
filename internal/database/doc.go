// Package database stores uploaded media records and the derivatives
// produced from them in SQLite.
//
// It is the server's persistence collaborator: the upload handlers create a
// record once a file is assembled, and the process API attaches each
// successful ProcessResult to its source record. The transforms themselves
// never touch it.
//
// The database uses WAL mode for concurrent reads and initializes its schema
// on open.
package database
