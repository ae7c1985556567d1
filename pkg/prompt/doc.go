/*
Package prompt provides a filesystem-based text template engine for harvest
prompts.

Prompt templates live as *.tmpl.txt files in a data directory, with shared
fragments in *.part.txt files. A small function map adds controlled
variation (random words from a topic list, random choices and counts) so
that thousands of requests rendered from the same template do not collapse
into a single literal string. Templates hot-reload via Refresh without
restarting the daemon.
*/
package prompt
