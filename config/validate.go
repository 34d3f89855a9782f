package config

import "fmt"

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	if _, err := c.CustodianAddress(); err != nil {
		return err
	}
	if c.CostLimit < c.CostModel.TxBase {
		return fmt.Errorf("cost: limit %d below the base cost %d", c.CostLimit, c.CostModel.TxBase)
	}
	if c.CostModel.Transfer == 0 {
		return fmt.Errorf("cost: transfer cost must be positive")
	}
	return nil
}
