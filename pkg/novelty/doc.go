/*
Package novelty scores extracted n-gram phrases by comparing their relative
frequency in a generated corpus against a human reference corpus.

A phrase that recurs in machine output while being rare or absent in the
reference material is a candidate emergent proverb. The scorer reads counts
produced by the phrase package, applies additive smoothing so unseen
reference phrases stay finite, weights longer windows upward, and maps the
resulting scores onto discrete verdict stages. A containment filter removes
sub-phrases that only ever occur inside a longer surviving candidate.
*/
package novelty
