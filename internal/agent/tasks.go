package agent

// taskFunc is the single capability a named sequence implements.
type taskFunc func(*runner)

var tasks = map[string]taskFunc{
	"count":   (*runner).runCount,
	"analyze": (*runner).runAnalyze,
	"process": (*runner).runProcess,
}

const countTotal = 20

// runCount prints 20 numbered counts with a full delay after each.
func (r *runner) runCount() {
	r.println("[INFO] Starting counting task...")

	for i := 1; i <= countTotal; i++ {
		if r.interrupted() {
			return
		}
		r.printf("Count: %d/%d\n", i, countTotal)
		r.sleep(1)
	}

	if !r.interrupted() {
		r.println("[SUCCESS] Counting task completed!")
	}
}

var analyzeSteps = []string{
	"Loading data...",
	"Preprocessing data...",
	"Analyzing patterns...",
	"Computing statistics...",
	"Generating insights...",
	"Validating results...",
	"Preparing report...",
	"Finalizing analysis...",
}

// runAnalyze prints 8 labeled steps; steps 3-5 are followed by synthetic
// statistics lines, and a fixed score line closes an uninterrupted run.
func (r *runner) runAnalyze() {
	r.println("[INFO] Starting analysis task...")

	for i, step := range analyzeSteps {
		if r.interrupted() {
			return
		}
		r.printf("[%d/%d] %s\n", i+1, len(analyzeSteps), step)
		r.sleep(1)

		switch i + 1 {
		case 3:
			r.println("  → Found 42 patterns")
		case 4:
			r.println("  → Mean: 123.45, Median: 118.20")
		case 5:
			r.println("  → Key insight: Trend is increasing by 15%")
		}
	}

	if !r.interrupted() {
		r.println("[SUCCESS] Analysis completed successfully!")
		r.println("[RESULT] Overall score: 87.5/100")
	}
}

var processFiles = []string{
	"data_001.csv",
	"data_002.csv",
	"data_003.csv",
	"data_004.csv",
	"data_005.csv",
}

var processSteps = []string{"Reading", "Parsing", "Transforming", "Validating", "Writing"}

// runProcess simulates processing 5 files with 5 sub-steps each. Files
// sleep half the delay, sub-steps a fifth of it.
func (r *runner) runProcess() {
	r.println("[INFO] Starting data processing task...")

	for i, filename := range processFiles {
		if r.interrupted() {
			return
		}

		r.printf("[%d/%d] Processing %s...\n", i+1, len(processFiles), filename)
		r.sleep(0.5)

		for _, step := range processSteps {
			if r.interrupted() {
				return
			}
			r.printf("  • %s... OK\n", step)
			r.sleep(0.2)
		}

		r.printf("  ✓ %s processed successfully\n", filename)
	}

	if !r.interrupted() {
		r.println("[SUCCESS] All files processed!")
		r.printf("[RESULT] Processed %d files, 0 errors\n", len(processFiles))
	}
}
