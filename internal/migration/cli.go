package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// =============================================================================
// 🛠️ 迁移命令输出
// =============================================================================

// CLI 把迁移操作包装成带人类可读输出的命令,输出目标由调用方注入。
type CLI struct {
	m   *Migrator
	out io.Writer
}

// NewCLI 创建迁移命令包装
func NewCLI(m *Migrator, out io.Writer) *CLI {
	return &CLI{m: m, out: out}
}

// Up 应用全部待执行迁移并打印最终版本
func (c *CLI) Up(ctx context.Context) error {
	fmt.Fprintln(c.out, "Applying pending migrations...")
	if err := c.m.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.printVersionLine(ctx)
}

// Down 回滚最后一次迁移;all 为 true 时回滚全部
func (c *CLI) Down(ctx context.Context, all bool) error {
	if all {
		fmt.Fprintln(c.out, "Rolling back all migrations...")
		if err := c.m.DownAll(ctx); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Fprintln(c.out, "All migrations rolled back.")
		return nil
	}

	fmt.Fprintln(c.out, "Rolling back last migration...")
	if err := c.m.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.printVersionLine(ctx)
}

// Goto 迁移到指定版本
func (c *CLI) Goto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.out, "Migrating to version %d...\n", version)
	if err := c.m.Goto(ctx, version); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.printVersionLine(ctx)
}

// Force 强制写入版本号,不执行任何迁移
func (c *CLI) Force(ctx context.Context, version int) error {
	if err := c.m.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// Version 打印当前版本
func (c *CLI) Version(ctx context.Context) error {
	return c.printVersionLine(ctx)
}

// Status 逐行打印每个迁移的执行情况,并汇总待执行数量
func (c *CLI) Status(ctx context.Context) error {
	statuses, err := c.m.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	w.Flush()

	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n",
		len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) printVersionLine(ctx context.Context) error {
	version, dirty, err := c.m.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}

	fmt.Fprintf(c.out, "Current version: %d", version)
	if dirty {
		fmt.Fprint(c.out, " (dirty)")
	}
	fmt.Fprintln(c.out)
	return nil
}
