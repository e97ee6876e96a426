package domain

import "testing"

func TestValidZcashAddress(t *testing.T) {
	valid := []string{
		"t1XVXWCvpMgBvUaed4XDqWtgQgJSu1Ghz7F",
		"t3Vz22vK5z2LcKEdg16Yv4FFneEL1zg9ojd",
	}
	for _, addr := range valid {
		if !ValidZcashAddress(addr) {
			t.Errorf("ValidZcashAddress(%q) = false, want true", addr)
		}
	}

	invalid := []string{
		"",
		"t1short",
		"zs1g7cqw98n9g0lqxvqvneyqvczvxm3hlnrqhgfl8lupe0r9q5flj2vffje3qz7s70qgmlnrqcwue2", // shielded
		"t2XVXWCvpMgBvUaed4XDqWtgQgJSu1Ghz7F", // bad prefix
		"t1XVXWCvpMgBvUaed4XDqWtgQgJSu1Ghz70", // '0' not in base58
		"t1XVXWCvpMgBvUaed4XDqWtgQgJSu1Ghz7Fx", // 36 chars
	}
	for _, addr := range invalid {
		if ValidZcashAddress(addr) {
			t.Errorf("ValidZcashAddress(%q) = true, want false", addr)
		}
	}
}

func TestValidNearAccount(t *testing.T) {
	valid := []string{
		"alice.near",
		"sub.alice.near",
		"a2",
		"token-vault_1.pool.near",
		"98793cd91a3f870fb126f66285808c7e094afcfc4eda8a970f6648cdf0dbd6de",
	}
	for _, acct := range valid {
		if !ValidNearAccount(acct) {
			t.Errorf("ValidNearAccount(%q) = false, want true", acct)
		}
	}

	invalid := []string{
		"",
		"a",
		"Alice.near",
		"-leading.near",
		"trailing-.near",
		"double--dash.near",
		"dots..near",
		"has space.near",
	}
	for _, acct := range invalid {
		if ValidNearAccount(acct) {
			t.Errorf("ValidNearAccount(%q) = true, want false", acct)
		}
	}
}
