package phrase

import (
	"context"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all corpora and their individual stats.
type DBStats struct {
	Corpora   []CorpusInfo        // A list of corpora in the database
	Stats     map[int]CorpusStats // A mapping of corpus ids to their stats
	VocabSize int                 // The number of unique tokens across all corpora
	KeySize   int                 // The number of unique n-gram keys across all corpora
}

// CorpusStats holds aggregated statistics for a single corpus.
type CorpusStats struct {
	DistinctPhrases int // The number of unique n-gram keys counted.
	TotalFrequency  int // The sum of all counts; the total number of windows observed.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-corpus stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	corpusInfos, err := s.GetCorpusInfos(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = s.stmtVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var keyLen int
	if err = s.stmtKeyLen.QueryRowContext(ctx).Scan(&keyLen); err != nil {
		return nil, err
	}

	corpora := make([]CorpusInfo, 0)
	corpusStats := make(map[int]CorpusStats)
	for _, v := range corpusInfos {
		corpora = append(corpora, v)
		var distinct, totalFreq int
		if err = s.stmtCorpusKeys.QueryRowContext(ctx, v.Id).Scan(&distinct); err != nil {
			return nil, err
		}
		if err = s.stmtCorpusFreq.QueryRowContext(ctx, v.Id).Scan(&totalFreq); err != nil {
			return nil, err
		}
		corpusStats[v.Id] = CorpusStats{
			DistinctPhrases: distinct,
			TotalFrequency:  totalFreq,
		}
	}

	return &DBStats{
		Corpora:   corpora,
		Stats:     corpusStats,
		VocabSize: vocabLen,
		KeySize:   keyLen,
	}, nil
}
