/*
Package phrase provides a database-backed engine for extracting and counting
long n-grams from text corpora.

It supports multiple named corpora within a single SQLite database, streaming
windowed extraction that never crosses sentence boundaries, frequency queries
shared across corpora (so a generated corpus can be compared against a
reference corpus), pruning, and JSON export/import.

For a complete usage example, see the README.md file.
*/
package phrase
