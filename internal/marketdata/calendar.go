package marketdata

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CalendarEntry 研究侧维护的个股事实：目标价、催化剂日期、板块
type CalendarEntry struct {
	AnalystTarget     string   `yaml:"analyst_target"`
	CatalystDate      string   `yaml:"catalyst_date"` // YYYY-MM-DD
	SectorETF         string   `yaml:"sector_etf"`    // 用 ETF 近一个月涨跌幅估算板块动量
	SectorMomentumPct *float64 `yaml:"sector_momentum_pct"`
}

// Calendar ticker -> entry
type Calendar map[string]CalendarEntry

type calendarFile struct {
	Tickers map[string]CalendarEntry `yaml:"tickers"`
}

// LoadCalendar 读取 YAML；path 为空返回空日历
func LoadCalendar(path string) (Calendar, error) {
	if strings.TrimSpace(path) == "" {
		return Calendar{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取催化剂日历失败: %w", err)
	}
	var f calendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析催化剂日历失败: %w", err)
	}
	cal := make(Calendar, len(f.Tickers))
	for k, v := range f.Tickers {
		if _, _, err := v.parse(); err != nil {
			return nil, fmt.Errorf("calendar %s: %w", k, err)
		}
		cal[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return cal, nil
}

func (e CalendarEntry) parse() (decimal.Decimal, *time.Time, error) {
	target := decimal.Zero
	if s := strings.TrimSpace(e.AnalystTarget); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("analyst_target %q: %w", s, err)
		}
		target = v
	}
	var catalyst *time.Time
	if s := strings.TrimSpace(e.CatalystDate); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("catalyst_date %q: %w", s, err)
		}
		catalyst = &d
	}
	return target, catalyst, nil
}
