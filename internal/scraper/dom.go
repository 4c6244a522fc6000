package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// 本文件是 rod 元素操作的薄封装。统一用非等待的 Elements 查询，
// 选择器策略是按序回退的，等待式查询会把每次未命中都拖满超时。

// lazyImageAttrs 懒加载图片可能挂载真实链接的属性，按优先级排列。
var lazyImageAttrs = []string{"src", "data-src", "data-original", "data-lazy", "data-image"}

// firstElement 按选择器顺序找第一个命中的子元素，全部未命中返回 nil。
func firstElement(el *rod.Element, selectors ...string) *rod.Element {
	for _, sel := range selectors {
		els, err := el.Elements(sel)
		if err == nil && len(els) > 0 {
			return els[0]
		}
	}
	return nil
}

// elementText 取元素可见文本，失败时返回空串。
func elementText(el *rod.Element) string {
	if el == nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// attrValue 取元素属性值，属性不存在或读取失败返回空串。
func attrValue(el *rod.Element, name string) string {
	if el == nil {
		return ""
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// navigate 导航到目标页并等待加载完成，用 goroutine+select 做超时保护。
func navigate(ctx context.Context, page *rod.Page, target string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		err := page.Navigate(target)
		if err == nil {
			err = page.WaitLoad()
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("navigate timeout after %v: %s", timeout, target)
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during navigation: %w", ctx.Err())
	}
}

// scrollToBottom 滚到页底触发懒加载，随后短暂等待渲染。
func scrollToBottom(page *rod.Page) {
	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	time.Sleep(scrollWaitInterval)
}

// findLazyImage 在元素内按选择器和懒加载属性找第一个可用的商品图链接。
func findLazyImage(el *rod.Element, selectors []string, normalize func(raw string) string) string {
	for _, sel := range selectors {
		nodes, err := el.Elements(sel)
		if err != nil {
			continue
		}
		for _, node := range nodes {
			for _, name := range lazyImageAttrs {
				raw := attrValue(node, name)
				if raw == "" {
					continue
				}
				if strings.Contains(raw, ",") || strings.Contains(raw, " ") {
					raw = FirstFromSrcset(raw)
				}
				img := normalize(raw)
				if IsBlockedImage(img) {
					continue
				}
				return img
			}
		}
	}
	return ""
}
