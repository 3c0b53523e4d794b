package metadata

// cleanExfat fills the directory with entries, deletes them all, then
// creates a smaller batch that lands on the freed directory slots.
func (c *Cleaner) cleanExfat(st *churnState) error {
	target := st.result.Target
	final := int(float64(target) * c.opts.ExfatFinalRatio)
	if final < 1 {
		final = 1
	}
	st.allSteps = target + target + final

	c.logger.Log("DEBUG", "exFAT phase 1: bulk create", "count", target)
	if err := c.churn(st, target); err != nil {
		return err
	}
	created := len(st.tracked)

	c.logger.Log("DEBUG", "exFAT phase 2: bulk delete", "count", created)
	if err := c.removeTracked(st); err != nil {
		c.logger.Log("WARN", "exFAT bulk delete incomplete", "dir", st.dir, "error", err)
	}
	// Deletions count as steps; skipped creations from an early disk-full too.
	st.doneSteps = 2 * target
	c.emitProgress(st)

	c.logger.Log("DEBUG", "exFAT phase 3: final create", "count", final)
	return c.churn(st, final)
}
