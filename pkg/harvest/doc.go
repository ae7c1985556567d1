/*
Package harvest collects generated proverbs from an OpenAI-compatible chat
completions endpoint and accumulates them into a JSON corpus file.

A Harvester drives a bounded pool of concurrent requests toward a target
count, resuming from the output file if a previous run was interrupted.
Progress is saved atomically at a configurable interval and once more on the
way out, so a crash or cancellation never loses more than one interval of
work. Individual request failures are counted rather than aborting the run;
a run that comes up short is simply resumed by running it again.
*/
package harvest
